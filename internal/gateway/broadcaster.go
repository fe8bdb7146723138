package gateway

import (
	"bytes"
	"strconv"
	"time"
)

// buildEnvelope hand-crafts the envelope JSON; data must already be valid
// JSON and channel/typ must not need escaping.
func buildEnvelope(channel, typ string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

var typePrefix = []byte(`","type":"`)

// envelopeType reads the type field back out of an envelope built by
// buildEnvelope.
func envelopeType(env []byte) string {
	i := bytes.Index(env, typePrefix)
	if i < 0 {
		return ""
	}
	rest := env[i+len(typePrefix):]
	j := bytes.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return string(rest[:j])
}
