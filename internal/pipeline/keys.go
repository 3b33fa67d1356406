package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Pathstore key layout:
//
//	htmlchunk/users/{user}/docs/{doc}                     document index
//	htmlchunk/users/{user}/documents/{doc}/meta
//	htmlchunk/users/{user}/documents/{doc}/chunks/{index}
//	htmlchunk/users/{user}/by_hash/{hash}/{doc}
//
// User and document ids are path-escaped, so each occupies exactly one
// segment.

const maxIDLen = 256

// ValidateID rejects ids that cannot be used as a key segment.
func ValidateID(kind, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s is required", kind)
	case len(id) > maxIDLen:
		return fmt.Errorf("%s exceeds %d bytes", kind, maxIDLen)
	case id == "." || id == "..":
		return fmt.Errorf("%s must not be %q", kind, id)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return errors.New(kind + " must not contain control characters")
	}
	return nil
}

func seg(s string) string {
	return url.PathEscape(s)
}

// UnescapeSegment reverses the escaping applied to an id in a key.
func UnescapeSegment(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

func userPrefix(userID string) string {
	return "htmlchunk/users/" + seg(userID)
}

// DocumentsPrefix is the parent of all document subtrees of a user.
func DocumentsPrefix(userID string) string {
	return userPrefix(userID) + "/documents"
}

// DocPrefix is the root key of one document.
func DocPrefix(userID, docID string) string {
	return DocumentsPrefix(userID) + "/" + seg(docID)
}

// ChunkKey is the key of the chunk at index.
func ChunkKey(userID, docID string, index int) string {
	return fmt.Sprintf("%s/chunks/%05d", DocPrefix(userID, docID), index)
}

// MetaKey is the key of the document metadata node.
func MetaKey(userID, docID string) string {
	return DocPrefix(userID, docID) + "/meta"
}

// DocIndexPrefix holds one small node per stored document, so listing a
// user's documents never scans chunk nodes.
func DocIndexPrefix(userID string) string {
	return userPrefix(userID) + "/docs"
}

// DocIndexKey is the index entry of one document.
func DocIndexKey(userID, docID string) string {
	return DocIndexPrefix(userID) + "/" + seg(docID)
}

// HashPrefix is the dedup index prefix for a content hash.
func HashPrefix(userID, hash string) string {
	return userPrefix(userID) + "/by_hash/" + hash
}

// HashKey is the dedup index entry for a document.
func HashKey(userID, hash, docID string) string {
	return HashPrefix(userID, hash) + "/" + seg(docID)
}
