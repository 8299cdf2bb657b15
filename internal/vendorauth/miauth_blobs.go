package vendorauth

// builtinMiAuthBlobs returns the starting table of precomputed
// signature blobs MiAuth.Authenticate tries before falling back to a
// challenge/response round with an external signer. These are placeholder
// byte strings, not real captured signatures — a deployment is expected to
// replace the table via SetMiAuthBlobs with blobs appropriate to the
// target bootloader generation (spec §9 Open Questions).
func builtinMiAuthBlobs() [][]byte {
	return [][]byte{
		miAuthBlobV1,
		miAuthBlobV2,
	}
}

var (
	miAuthBlobV1 = []byte{
		0x4d, 0x49, 0x41, 0x55, 0x54, 0x48, 0x00, 0x01,
	}
	miAuthBlobV2 = []byte{
		0x4d, 0x49, 0x41, 0x55, 0x54, 0x48, 0x00, 0x02,
	}
)
