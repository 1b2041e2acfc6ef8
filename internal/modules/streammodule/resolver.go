package streammodule

import "strings"

// Peer-to-peer scheme prefixes accepted by the resolver
const (
	schemeWebRTC = "webrtc://"
	schemePeer   = "peer://"
)

// ResolveStreamType classifies a media locator into exactly one protocol
// backend. Pure and deterministic: an unrecognized pattern falls back to
// progressive rather than erroring.
func ResolveStreamType(locator string) StreamType {
	trimmed := strings.ToLower(strings.TrimSpace(locator))

	if strings.HasPrefix(trimmed, schemeWebRTC) || strings.HasPrefix(trimmed, schemePeer) {
		return StreamTypeRealtimePeer
	}

	// Suffix matching ignores query strings and fragments
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}

	switch {
	case strings.HasSuffix(trimmed, ".m3u8"):
		return StreamTypeSegmentedHTTP
	case strings.HasSuffix(trimmed, ".mpd"):
		return StreamTypeDynamicAdaptive
	default:
		return StreamTypeProgressive
	}
}

// SeekDisabled reports whether seeking must be rejected for a session of the
// given type and liveness. Realtime-peer sessions never seek; live sessions
// without DVR cannot seek into a buffer that is not retained.
func SeekDisabled(streamType StreamType, live, dvr bool) bool {
	if streamType == StreamTypeRealtimePeer {
		return true
	}
	return live && !dvr
}
