package room

// Info is the durable metadata of a room. It outlives the in-memory
// playback state and is never touched on the sync hot path.
type Info struct {
	Name      string `redis:"name"`
	OwnerId   string `redis:"owner_id"`
	VideoUrl  string `redis:"video_url"`
	CreatedAt int64  `redis:"created_at"`
}

type SetInfoParams struct {
	RoomId    string
	Name      string
	OwnerId   string
	VideoUrl  string
	CreatedAt int64
}
