package types

import (
	"fmt"
	"path"
	"strings"
)

// FileType classifies a candidate file by content family.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypePhoto
	FileTypeVideo
	FileTypeAudio
	FileTypeDocument
	FileTypeEmail
	FileTypeArchive
	FileTypeExecutable
	FileTypeDatabase
	// FileTypeAllData is only meaningful as a scan filter and disables filtering.
	FileTypeAllData
)

var fileTypeNames = map[FileType]string{
	FileTypeUnknown:    "Unknown",
	FileTypePhoto:      "Photos",
	FileTypeVideo:      "Videos",
	FileTypeAudio:      "Audio Files",
	FileTypeDocument:   "Documents",
	FileTypeEmail:      "Email Files",
	FileTypeArchive:    "Archives",
	FileTypeExecutable: "Executables",
	FileTypeDatabase:   "Databases",
	FileTypeAllData:    "All Data",
}

var fileTypeTags = map[FileType]string{
	FileTypeUnknown:    "unknown",
	FileTypePhoto:      "photo",
	FileTypeVideo:      "video",
	FileTypeAudio:      "audio",
	FileTypeDocument:   "document",
	FileTypeEmail:      "email",
	FileTypeArchive:    "archive",
	FileTypeExecutable: "executable",
	FileTypeDatabase:   "database",
	FileTypeAllData:    "all",
}

// String returns the display name of the file type
func (t FileType) String() string {
	if name, ok := fileTypeNames[t]; ok {
		return name
	}
	return "Unspecified"
}

// Tag returns the short lowercase identifier used in flags and exports
func (t FileType) Tag() string {
	if tag, ok := fileTypeTags[t]; ok {
		return tag
	}
	return "unknown"
}

// Matches reports whether a candidate of type t passes the filter.
func (filter FileType) Matches(t FileType) bool {
	return filter == FileTypeAllData || filter == t
}

// MarshalText implements encoding.TextMarshaler
func (t FileType) MarshalText() ([]byte, error) {
	return []byte(t.Tag()), nil
}

// ParseFileType converts a CLI or config spelling into a FileType.
func ParseFileType(s string) (FileType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	switch needle {
	case "", "all", "all_data", "alldata":
		return FileTypeAllData, nil
	case "photos", "images", "image":
		return FileTypePhoto, nil
	case "videos":
		return FileTypeVideo, nil
	case "documents", "docs":
		return FileTypeDocument, nil
	case "emails", "mail":
		return FileTypeEmail, nil
	case "archives":
		return FileTypeArchive, nil
	case "executables":
		return FileTypeExecutable, nil
	case "databases":
		return FileTypeDatabase, nil
	}
	for t, tag := range fileTypeTags {
		if tag == needle {
			return t, nil
		}
	}
	return FileTypeUnknown, fmt.Errorf("unknown file type %q", s)
}

// extensionFamilies lists the extensions associated with each family.
var extensionFamilies = map[FileType][]string{
	FileTypePhoto:      {"jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "raw", "cr2", "nef", "heic", "webp"},
	FileTypeVideo:      {"mp4", "avi", "mov", "wmv", "flv", "3gp", "mkv", "m4v", "mpg", "mpeg"},
	FileTypeAudio:      {"mp3", "wav", "flac", "aac", "ogg", "m4a", "aif", "aiff", "wma"},
	FileTypeDocument:   {"doc", "docx", "pdf", "xls", "xlsx", "ppt", "pptx", "txt", "rtf", "odt", "ods", "csv"},
	FileTypeEmail:      {"pst", "ost", "eml", "msg", "mbox"},
	FileTypeArchive:    {"zip", "rar", "7z", "tar", "gz", "tgz", "bz2", "xz"},
	FileTypeExecutable: {"exe", "dll", "msi", "sys", "com"},
	FileTypeDatabase:   {"db", "mdb", "accdb", "sql", "sqlite", "sqlite3"},
}

var extensionIndex = func() map[string]FileType {
	idx := make(map[string]FileType)
	for t, exts := range extensionFamilies {
		for _, ext := range exts {
			idx[ext] = t
		}
	}
	return idx
}()

// ClassifyName returns the family of a file name based on its extension.
func ClassifyName(name string) FileType {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return FileTypeUnknown
	}
	if t, ok := extensionIndex[ext]; ok {
		return t
	}
	return FileTypeUnknown
}

// ClassifyMIME maps a detected content type onto a family.
func ClassifyMIME(mime string) FileType {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FileTypePhoto
	case strings.HasPrefix(mime, "video/"):
		return FileTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return FileTypeAudio
	case mime == "message/rfc822", mime == "application/vnd.ms-outlook":
		return FileTypeEmail
	case mime == "application/x-sqlite3", mime == "application/x-msaccess":
		return FileTypeDatabase
	case mime == "application/vnd.microsoft.portable-executable", mime == "application/x-msdownload",
		mime == "application/x-elf", mime == "application/x-executable", mime == "application/x-mach-binary":
		return FileTypeExecutable
	case mime == "application/zip", mime == "application/x-7z-compressed", mime == "application/gzip",
		mime == "application/x-rar-compressed", mime == "application/x-tar", mime == "application/x-bzip2",
		mime == "application/x-xz":
		return FileTypeArchive
	case mime == "application/pdf", strings.HasPrefix(mime, "text/"), mime == "application/rtf",
		strings.Contains(mime, "officedocument"), strings.Contains(mime, "opendocument"),
		mime == "application/msword", mime == "application/vnd.ms-excel", mime == "application/vnd.ms-powerpoint":
		return FileTypeDocument
	}
	return FileTypeUnknown
}
