package capture

// blankFrame is a pre-encoded 64x64 black H264 IDR access unit
// (Annex-B: SPS, PPS, IDR slice). Emitted as the placeholder before
// the first keyframe from the camera has been seen.
var blankFrame = []byte{
	// SPS
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x0a,
	0xd9, 0x1e, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x48, 0x99,
	0x20,
	// PPS
	0x00, 0x00, 0x00, 0x01, 0x68, 0xcb, 0x83, 0xcb,
	0x20,
	// IDR slice
	0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00,
	0x33, 0xff, 0xfe, 0xf6, 0xf0, 0xfe, 0x05, 0x36,
	0x56, 0x04, 0x50, 0x96, 0x7b, 0x3f, 0x53, 0xe1,
}
