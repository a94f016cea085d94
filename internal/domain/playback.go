package domain

// PlaybackState is the broadcastable snapshot of a room's playback.
// It is always passed by value; Clone must be used before handing a
// state to another component.
type PlaybackState struct {
	CurrentTrack    *Track      `json:"currentTrack,omitempty"`
	PositionSeconds float64     `json:"positionSeconds"`
	IsPlaying       bool        `json:"isPlaying"`
	Queue           []QueueItem `json:"queue"`
	ShuffleEnabled  bool        `json:"shuffleEnabled"`
	Timestamp       int64       `json:"timestamp"` // unix millis at which the position was sampled
	StreamURL       string      `json:"streamUrl,omitempty"`
	StreamFormat    string      `json:"streamFormat,omitempty"`
}

// Clone returns a deep copy.
func (s PlaybackState) Clone() PlaybackState {
	out := s
	if s.CurrentTrack != nil {
		t := *s.CurrentTrack
		out.CurrentTrack = &t
	}
	out.Queue = make([]QueueItem, len(s.Queue))
	copy(out.Queue, s.Queue)
	return out
}

// Tracks returns the tracks of the queue snapshot in order.
func (s PlaybackState) Tracks() []Track {
	tracks := make([]Track, 0, len(s.Queue))
	for _, item := range s.Queue {
		tracks = append(tracks, item.Track)
	}
	return tracks
}

// Telemetry is a client-reported playback sample. It is used for
// track-change detection only, never as authoritative position.
type Telemetry struct {
	PositionSeconds float64 `json:"position"`
	TrackID         string  `json:"trackId"`
	Song            string  `json:"song"`
	Playing         bool    `json:"playing"`
	Buffering       bool    `json:"buffering"`
	SampledAt       int64   `json:"timestamp"` // client wall clock, unix millis
}

// SameTrack reports whether two samples refer to the same track.
func (t Telemetry) SameTrack(other Telemetry) bool {
	return t.TrackID == other.TrackID && t.Song == other.Song
}
