package domain

import "errors"

// Room errors.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomAccess   = errors.New("room access denied")
	ErrRoomCapacity = errors.New("room is full")
	ErrRoomInvite   = errors.New("invalid invite")
)

// Queue errors.
var (
	ErrQueueFull       = errors.New("queue is full")
	ErrInvalidPosition = errors.New("invalid queue position")
	ErrQueueEmpty      = errors.New("queue is empty")
)

// Playback errors.
var (
	ErrNoTrackPlaying      = errors.New("no track is playing")
	ErrInvalidSeekPosition = errors.New("invalid seek position")
	ErrNoTrackToResume     = errors.New("no track to resume")
)

// Provider errors.
var (
	ErrProvider       = errors.New("provider error")
	ErrAuthentication = errors.New("provider authentication failed")
	ErrRateLimit      = errors.New("provider rate limit exceeded")
	ErrNetwork        = errors.New("network error")
	ErrTrackNotFound  = errors.New("track not found")
)

// Kind is the stable, transport-facing name of an error class.
type Kind string

const KindInternal Kind = "InternalError"

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrRoomNotFound, "RoomNotFoundError"},
	{ErrRoomAccess, "RoomAccessError"},
	{ErrRoomCapacity, "RoomCapacityError"},
	{ErrRoomInvite, "RoomInviteError"},
	{ErrQueueFull, "QueueFull"},
	{ErrInvalidPosition, "InvalidPosition"},
	{ErrQueueEmpty, "QueueEmpty"},
	{ErrNoTrackPlaying, "NoTrackPlaying"},
	{ErrInvalidSeekPosition, "InvalidSeekPosition"},
	{ErrNoTrackToResume, "NoTrackToResume"},
	{ErrAuthentication, "AuthenticationError"},
	{ErrRateLimit, "RateLimitError"},
	{ErrNetwork, "NetworkError"},
	{ErrTrackNotFound, "TrackNotFoundError"},
	{ErrProvider, "ProviderError"},
}

// KindOf returns the kind of the first known sentinel err wraps.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether err is a transient provider or network failure.
// Rate-limit and authentication failures are never retryable.
func Retryable(err error) bool {
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrAuthentication) || errors.Is(err, ErrTrackNotFound) {
		return false
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrProvider)
}
