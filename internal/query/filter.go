package query

import (
	"sort"
	"strconv"

	"github.com/docvault/docvault/internal/store"
)

// postFilter is stage 6: apply scoreThreshold, fileTypes, and
// metadataFilters, sort by descending score, then truncate to topK.
func postFilter(hits []Hit, opts Options) []Hit {
	filtered := hits[:0:0]
	for _, h := range hits {
		if h.Score < opts.ScoreThreshold {
			continue
		}
		if len(opts.FileTypes) > 0 && !contains(opts.FileTypes, h.Metadata.FileType) {
			continue
		}
		if !matchesMetadata(h.Metadata, opts.MetadataFilters) {
			continue
		}
		filtered = append(filtered, h)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultOptions().TopK
	}
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// matchesMetadata applies arbitrary equality predicates against the fixed
// Metadata fields named in spec §6's schema. Unknown filter keys never
// match, so a typo in a filter excludes everything rather than silently
// passing every row.
func matchesMetadata(meta store.Metadata, filters map[string]string) bool {
	for key, want := range filters {
		var got string
		switch key {
		case "fileId":
			got = meta.FileID
		case "fileName":
			got = meta.FileName
		case "filePath":
			got = meta.FilePath
		case "fileType":
			got = meta.FileType
		case "fileHash":
			got = meta.FileHash
		case "sourceType":
			got = meta.SourceType
		case "status":
			got = meta.Status
		case "modelVersion":
			got = meta.ModelVersion
		case "processingVersion":
			got = meta.ProcessingVersion
		case "chunkIndex":
			got = strconv.Itoa(meta.ChunkIndex)
		case "totalChunks":
			got = strconv.Itoa(meta.TotalChunks)
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}
