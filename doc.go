// Package capture provides browser-style camera and microphone capture in Go:
// device enumeration, getUserMedia-like stream acquisition under fixed
// resolution presets, microphone level metering, and MediaRecorder-like
// recording into an in-memory list of chunks.
//
// Key pieces include:
//   - Inventory and DeviceProvider (enumerateDevices-style APIs)
//   - Acquirer, MediaStream and MediaStreamTrack (getUserMedia-style APIs)
//   - VolumeMeter and SoundMeter (periodic level readings)
//   - Recorder, Session and Blob (MediaRecorder-style recording and export)
//   - ContainerBackend (WebM and Ogg muxing over registered encoders)
//   - Controller, which owns one of each and is passed to the UI layer
//
// # Architecture
//
//	Acquire:  DeviceProvider -> VideoTrack/AudioTrack -> MediaStream (current per kind)
//	Meter:    AudioTrack -> SoundMeter -> VolumeReading feed (every 200ms)
//	Record:   MediaStream -> Negotiate -> PlatformRecorder -> Chunk list -> Blob
//
// # Native Libraries
//
// Camera capture on Linux and VP8/VP9 encoding load libstream_v4l2 and
// libmedia_vpx at runtime with purego. Set STREAM_SDK_LIB_PATH to the
// directory containing them. Microphone capture and Opus encoding need cgo
// (malgo and gopus). Capabilities that fail to load are simply not offered,
// which is what codec negotiation and the provider lists report.
//
// # Build Tags
//
// Optional tags disable features:
//   - novpx, noopus: disable specific encoders
//   - nodevices, noaudio: disable camera / microphone providers
package capture
