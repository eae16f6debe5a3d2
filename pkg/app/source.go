package app

import (
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/device"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
)

// Source is an opened volume and the reader over it
type Source struct {
	Reader *blockreader.Reader
	image  *device.ImageVolume
}

// OpenSource opens the image or device of st read-only
func (c *Context) OpenSource(st SourceTarget) (*Source, error) {
	if err := st.Validate(); err != nil {
		return nil, NewError(ErrCodeInvalidInput, "invalid source", err)
	}
	image, err := device.OpenImage(st.Path, c.Config.Reader.SectorSize)
	if err != nil {
		return nil, NewError(ErrCodeSourceAccess, "cannot open source", err)
	}

	var vol interfaces.VolumeHandle = image
	if st.IsWindow() {
		length := st.Length
		if length == 0 {
			length = image.CapacityBytes()
		}
		window, err := device.NewWindow(image, st.Offset, length)
		if err != nil {
			image.Close()
			return nil, NewError(ErrCodeInvalidInput, "invalid source window", err)
		}
		vol = window
	}

	log := c.Logger.With().Str("source", st.String()).Logger()
	log.Debug().Uint64("capacity", vol.CapacityBytes()).Str("type", image.DeviceType()).Msg("source opened")
	return &Source{Reader: blockreader.New(vol, c.Config.ReaderOptions(log)), image: image}, nil
}

// Close releases the source
func (s *Source) Close() error {
	if err := s.image.Close(); err != nil {
		return fmt.Errorf("failed to close source: %w", err)
	}
	return nil
}

// ReadErrors returns the failed reads seen on the source so far
func (s *Source) ReadErrors() int64 {
	return s.image.Statistics().ReadErrors()
}
