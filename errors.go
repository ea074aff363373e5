package flashring

import "errors"

var (
	ErrRegionSizeInvalid = errors.New("region size must be a positive multiple of page size")
	ErrDirPathIsEmpty    = errors.New("the region dir path is empty")
	ErrRingClosed        = errors.New("the ring store is closed")
	ErrChunkSizeInvalid  = errors.New("write chunk size must be at least one page")
	ErrSourceIsNil       = errors.New("the pipeline data source is nil")
	ErrPipelineClosed    = errors.New("the pipeline is closed")
)
