package store

// codecVideoInfoKey and bufferChannel are process-global: this proxy runs
// one device per process (see internal/config), mirroring the original's
// single un-namespaced RedisCodecVideoInfo key and pub/sub channel.
const (
	codecVideoInfoKey = "codec_video_info"
	bufferChannel     = "memory_buffer_channel"
)

func (s *Store) queueKey() string {
	return "in_memory_queue_" + s.deviceID
}

func (s *Store) iframeKey() string {
	return "memory_iframe_list_" + s.deviceID
}

func (s *Store) decodedKey(requestID string) string {
	return "memory_decoded_" + s.deviceID + requestID
}

func (s *Store) settingsKey() string {
	return "settings:" + s.deviceID
}
