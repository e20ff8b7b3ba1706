package main

/*
#include "tbbridge.h"
*/
import "C"

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/logging"
	"github.com/JakeFAU/tbprogress/internal/progress"
)

const shutdownTimeout = 30 * time.Second

var (
	logger = logging.FromEnv()

	bridgeOnce sync.Once
	active     *bridge
)

func current() *bridge {
	bridgeOnce.Do(func() {
		b, err := newBridge(context.Background(), os.Getenv(ConfigEnv), logger)
		if err != nil {
			logger.Error("tbbridge init failed, calls will be ignored", zap.Error(err))
			return
		}
		active = b
	})
	return active
}

var errVecFull = errors.New("handle vector allocation failed")

//export RegisterModel
func RegisterModel(name *C.char) C.uintptr_t {
	return C.uintptr_t(current().registerModel(C.GoString(name)))
}

//export ReleaseModel
func ReleaseModel(h C.uintptr_t) {
	current().releaseModel(uint64(h))
}

//export InitVec
func InitVec(vec *C.tb_handle_vec, dir *C.char, modelRef C.uintptr_t) {
	push := func(h uint64) error {
		if C.tb_handle_vec_push(vec, C.uintptr_t(h)) != 0 {
			return errVecFull
		}
		return nil
	}
	current().initVec(push, C.GoString(dir), uint64(modelRef))
}

//export OpenWriter
func OpenWriter(name *C.char) C.uintptr_t {
	return C.uintptr_t(current().openWriter(C.GoString(name)))
}

//export CloseWriter
func CloseWriter(h C.uintptr_t) {
	current().closeWriter(uint64(h))
}

//export WriteValue
func WriteValue(h C.uintptr_t, name *C.char, value C.float, step C.int64_t) {
	current().writeValue(uint64(h), C.GoString(name), float32(value), int64(step))
}

//export Flush
func Flush(h C.uintptr_t) {
	current().flush(uint64(h))
}

//export OnTrainingUpdate
func OnTrainingUpdate(
	h C.uintptr_t,
	samplesStart, samplesEnd, updatesStart, updatesEnd C.uint64_t,
	lossStart, lossEnd, metricStart, metricEnd C.double,
) {
	current().trainingUpdate(uint64(h),
		progress.Range{Start: uint64(samplesStart), End: uint64(samplesEnd)},
		progress.Range{Start: uint64(updatesStart), End: uint64(updatesEnd)},
		progress.ValueRange{Start: float64(lossStart), End: float64(lossEnd)},
		progress.ValueRange{Start: float64(metricStart), End: float64(metricEnd)},
	)
}

//export OnTestUpdate
func OnTestUpdate(
	h C.uintptr_t,
	samplesStart, samplesEnd, updatesStart, updatesEnd C.uint64_t,
	metricStart, metricEnd C.double,
) {
	current().testUpdate(uint64(h),
		progress.Range{Start: uint64(samplesStart), End: uint64(samplesEnd)},
		progress.Range{Start: uint64(updatesStart), End: uint64(updatesEnd)},
		progress.ValueRange{Start: float64(metricStart), End: float64(metricEnd)},
	)
}

//export OnTrainingSummary
func OnTrainingSummary(
	h C.uintptr_t,
	samples, updates, summaries C.uint64_t,
	loss, metric C.double,
	elapsedMs C.uint64_t,
) {
	current().trainingSummary(uint64(h), uint64(samples), uint64(updates), uint64(summaries),
		float64(loss), float64(metric), time.Duration(elapsedMs)*time.Millisecond)
}

//export OnTestSummary
func OnTestSummary(
	h C.uintptr_t,
	samples, updates, summaries C.uint64_t,
	metric C.double,
	elapsedMs C.uint64_t,
) {
	current().testSummary(uint64(h), uint64(samples), uint64(updates), uint64(summaries),
		float64(metric), time.Duration(elapsedMs)*time.Millisecond)
}

//export CloseProgressWriter
func CloseProgressWriter(h C.uintptr_t) {
	current().closeAdapter(uint64(h))
}

//export Shutdown
func Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := current().shutdown(ctx); err != nil {
		logger.Warn("tbbridge shutdown failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func main() {}
