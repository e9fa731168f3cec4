// Package segment turns a stream of classified chunks into speech segment files.
// Engine holds the idle/manual/automatic state machine; Store owns the files from
// creation through trimming, final-rate resampling and the completion callback.
package segment
