package archive

import "fmt"

// Diagnostic text is part of the contract (spec.md §4.9, §7): tests assert
// these substrings verbatim, so wording must not drift once published.

func errArchiveHashMismatch() string {
	return "Archive hash does not match expected hash."
}

func errNoDiffHashForBlock(b uint32) string {
	return fmt.Sprintf("No diff hash found for block %d.", b)
}

func errBlockHashValidationFailed(b uint32) string {
	return fmt.Sprintf("Validation of hash of block %d failed.", b)
}

func errChangeNotCoveredByArchiveHash(b uint32) string {
	return fmt.Sprintf("Found change in block %d not covered by archive hash.", b)
}

func errAccountUpdateWithoutBlockHash(b uint32) string {
	return fmt.Sprintf("Found account update for block %d but no hash for this block.", b)
}

func errReincarnationNotIncremental() string {
	return "Reincarnation numbers are not incremental"
}

func errInvalidStorageReincarnation(b uint32, expected, got uint32) string {
	return fmt.Sprintf("Invalid reincarnation number for storage value at block %d, expected %d, got %d", b, expected, got)
}

func errDiffHashMismatch(b uint32) string {
	return fmt.Sprintf("Hash for diff at block %d does not match.", b)
}

func errUpdateWithoutAccountHash(b uint32) string {
	return fmt.Sprintf("Archive contains update for block %d but no hash for it.", b)
}

func errAccountHashWithoutUpdate(b uint32) string {
	return fmt.Sprintf("Archive contains hash for block %d but no update for it.", b)
}

func errExtraRowInTable(table string) string {
	return fmt.Sprintf("Found extra row of data in `%s`.", table)
}

func errExtraKeyValueInKeySpace(keySpace string) string {
	return fmt.Sprintf("Found extra key/value pair in key space `%s`.", keySpace)
}

func errFutureBlockHeightInTable(table string) string {
	return fmt.Sprintf("Found entry of future block height in `%s`.", table)
}
