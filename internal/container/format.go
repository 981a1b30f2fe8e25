package container

// File layout, all integers little-endian:
//
//	header   "STRATA\x00" + version byte
//	body     per table: chunk payloads, then the zstd-compressed JSON table metadata
//	footer   JSON directory: archive info plus one entry per committed table
//	trailer  u64 directory offset | u32 directory length | u64 xxhash64(directory) | "STRATEND"
const (
	magic              = "STRATA\x00"
	formatVersion byte = 1
	headerSize         = len(magic) + 1

	trailerMagic = "STRATEND"
	trailerSize  = 8 + 4 + 8 + len(trailerMagic)

	// maxDirectorySize bounds the directory block accepted by the reader.
	maxDirectorySize = 64 << 20

	// maxMetaSize bounds a decompressed table metadata block.
	maxMetaSize = 1 << 30
)

// tableEntry is the directory record for one committed table.
type tableEntry struct {
	Name      string `json:"name"`
	Offset    int64  `json:"meta_offset"`
	Length    int64  `json:"meta_length"`
	RawLength int64  `json:"meta_raw_length"`
	Checksum  uint64 `json:"meta_checksum"`
}

type directory struct {
	Info   ArchiveInfo  `json:"info"`
	Tables []tableEntry `json:"tables"`
}
