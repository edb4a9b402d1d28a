package renderer

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/presentloop/frameloop"
)

// pipelineCacheHeader is the version one header every driver writes at the
// start of its pipeline cache data.
type pipelineCacheHeader struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

var errStalePipelineCache = errors.New("pipeline cache does not match this device")

// validatePipelineCache checks that data was written by the same driver and
// device as props describes.
func validatePipelineCache(data []byte, props *core1_0.PhysicalDeviceProperties) error {
	var header pipelineCacheHeader
	err := binary.Read(bytes.NewReader(data), common.ByteOrder, &header)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "reading pipeline cache header"), errStalePipelineCache)
	}

	if header.Length < uint32(binary.Size(header)) || int(header.Length) > len(data) {
		return errors.Wrapf(errStalePipelineCache, "bad header length %d", header.Length)
	}
	if common.PipelineCacheHeaderVersion(header.Version) != common.PipelineCacheHeaderVersion1 {
		return errors.Wrapf(errStalePipelineCache, "unsupported header version %#x", header.Version)
	}
	if header.VendorID != props.VendorID {
		return errors.Wrapf(errStalePipelineCache, "vendor %#x, device has %#x", header.VendorID, props.VendorID)
	}
	if header.DeviceID != props.DeviceID {
		return errors.Wrapf(errStalePipelineCache, "device %#x, device has %#x", header.DeviceID, props.DeviceID)
	}
	if header.UUID != props.PipelineCacheUUID {
		return errors.Wrapf(errStalePipelineCache, "cache uuid %s, device has %s", header.UUID, props.PipelineCacheUUID)
	}
	return nil
}

// openPipelineCache seeds the pipeline cache from disk. Missing or stale
// cache files start an empty cache.
func (d *Device) openPipelineCache() error {
	if d.cfg.PipelineCachePath == "" {
		return nil
	}

	logger := frameloop.Logger().With("path", d.cfg.PipelineCachePath)

	data, err := os.ReadFile(d.cfg.PipelineCachePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("pipeline cache miss")
		data = nil
	case err != nil:
		return errors.Wrap(err, "reading pipeline cache")
	default:
		err = validatePipelineCache(data, d.properties)
		if err != nil {
			logger.Warn("discarding pipeline cache", "error", err)
			data = nil
			_ = os.Remove(d.cfg.PipelineCachePath)
		}
	}

	d.pipelineCache, _, err = d.driver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: data,
	})
	if err != nil {
		return errors.Wrap(err, "creating pipeline cache")
	}

	logger.Debug("pipeline cache opened", "bytes", len(data))
	return nil
}

func (d *Device) savePipelineCache() error {
	data, _, err := d.driver.GetPipelineCacheData(d.pipelineCache)
	if err != nil {
		return errors.Wrap(err, "reading pipeline cache data")
	}

	err = os.WriteFile(d.cfg.PipelineCachePath, data, 0o666)
	if err != nil {
		return errors.Wrap(err, "writing pipeline cache")
	}

	frameloop.Logger().Debug("pipeline cache saved", "path", d.cfg.PipelineCachePath, "bytes", len(data))
	return nil
}

// cache is the pipeline cache to build pipelines against, or nil when the
// on-disk cache is disabled.
func (d *Device) cache() *core1_0.PipelineCache {
	if !d.pipelineCache.Initialized() {
		return nil
	}
	return &d.pipelineCache
}
