package store

import (
	"fmt"
	"strconv"
)

// Key layout. Every record lives under a short kind prefix; every secondary
// index is a key-only entry (no value) under a parallel "<kind>:idx:<index
// name>:" prefix, ordered so that a lexicographic scan is also the intended
// sort order. Timestamps are zero-padded decimal so byte order == numeric
// order.

const timestampWidth = 20 // enough digits for any int64 epoch-millis value

func padTimestamp(ts int64) string {
	return fmt.Sprintf("%0*d", timestampWidth, ts)
}

func primaryPrefix(kind Kind) []byte {
	switch kind {
	case KindPhotos:
		return []byte("p:rec:")
	case KindEmbeddings:
		return []byte("e:rec:")
	case KindGroups:
		return []byte("g:rec:")
	case KindSelections:
		return []byte("s:rec:")
	default:
		return []byte(string(kind) + ":rec:")
	}
}

func recordKey(kind Kind, id string) []byte {
	return append(primaryPrefix(kind), []byte(id)...)
}

func counterKey(kind Kind) []byte {
	return []byte("c:" + string(kind))
}

func metaKey(key string) []byte {
	return []byte("m:" + key)
}

// photos indexes

func photoTimestampIndexPrefix() []byte { return []byte("p:idx:ts:") }

func photoTimestampIndexKey(ts int64, id string) []byte {
	return withIDSuffix(fmt.Sprintf("p:idx:ts:%s:", padTimestamp(ts)), id)
}

func photoHasEmbeddingIndexPrefix(has bool) []byte {
	return []byte(fmt.Sprintf("p:idx:hasemb:%v:", has))
}

func photoHasEmbeddingIndexKey(has bool, id string) []byte {
	return withIDSuffix(fmt.Sprintf("p:idx:hasemb:%v:", has), id)
}

func photoGroupIndexPrefix(groupID string) []byte {
	return []byte(fmt.Sprintf("p:idx:group:%s:", groupID))
}

func photoGroupIndexKey(groupID, id string) []byte {
	return withIDSuffix(fmt.Sprintf("p:idx:group:%s:", groupID), id)
}

// compound (hasEmbedding, groupId) index: streams "embedded but ungrouped"
// photos (hasEmbedding=true, groupId="") in one pass.
func photoEmbGroupIndexPrefix(has bool, groupID string) []byte {
	return []byte(fmt.Sprintf("p:idx:embgroup:%v:%s:", has, groupID))
}

func photoEmbGroupIndexKey(has bool, groupID, id string) []byte {
	return withIDSuffix(fmt.Sprintf("p:idx:embgroup:%v:%s:", has, groupID), id)
}

// groups indexes

func groupTimestampIndexPrefix() []byte { return []byte("g:idx:ts:") }

func groupTimestampIndexKey(ts int64, id string) []byte {
	return withIDSuffix(fmt.Sprintf("g:idx:ts:%s:", padTimestamp(ts)), id)
}

func groupStatusIndexPrefix(status string) []byte {
	return []byte(fmt.Sprintf("g:idx:status:%s:", status))
}

func groupStatusIndexKey(status, id string) []byte {
	return withIDSuffix(fmt.Sprintf("g:idx:status:%s:", status), id)
}

// selections index

func selectionAtIndexPrefix() []byte { return []byte("s:idx:selat:") }

func selectionAtIndexKey(selectedAt int64, id string) []byte {
	return withIDSuffix(fmt.Sprintf("s:idx:selat:%s:", padTimestamp(selectedAt)), id)
}

// idSuffixLenWidth is the fixed width of the decimal id-length trailer every
// index key carries. Photo ids are opaque strings from the external gallery
// (spec §3) and may contain ':', so the id can't be recovered by scanning for
// a delimiter; a fixed-width length field at a fixed offset from the end can
// always be sliced by position regardless of what bytes the id contains.
const idSuffixLenWidth = 10

// withIDSuffix appends id to prefix, followed by a zero-padded decimal
// encoding of id's byte length.
func withIDSuffix(prefix, id string) []byte {
	return []byte(fmt.Sprintf("%s%s%0*d", prefix, id, idSuffixLenWidth, len(id)))
}

// idFromIndexKey extracts the id from an index key built by withIDSuffix.
func idFromIndexKey(key []byte) string {
	if len(key) < idSuffixLenWidth {
		return string(key)
	}
	n, err := strconv.Atoi(string(key[len(key)-idSuffixLenWidth:]))
	if err != nil || n < 0 || len(key) < idSuffixLenWidth+n {
		return string(key)
	}
	idStart := len(key) - idSuffixLenWidth - n
	return string(key[idStart : idStart+n])
}
