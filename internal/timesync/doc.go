// Package timesync owns temporal correlation of independently clocked sensor
// streams.
//
// Responsibilities: per-stream cyclic buffers for image samples, matching a
// newly inserted sample against buffered samples on every other registered
// stream, the not-matched overflow store, and flush/close.
// Key types: Synchronizer, ImageSample, MotionSample, CorrelatedSet, Payload.
//
// A Synchronizer is not safe for concurrent use. Callers serialise every
// InsertImage, InsertMotion, NotMatchedFrame, Flush and Close call, usually
// from a single dispatch loop.
//
// Motion samples have no buffer of their own. With two or more image streams
// the latest reading near a buffered image waits in a single slot and joins
// the next image set it fits.
//
// Payload ownership: the engine retains a payload when it takes custody of a
// sample. Samples handed back in a CorrelatedSet or from NotMatchedFrame carry
// that reference to the caller, who releases it. Samples the engine drops
// (overflow full, replaced pending motion, Flush, Close) are released by the
// engine.
package timesync
