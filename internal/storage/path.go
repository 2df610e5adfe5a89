package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// ExtensionForMIME maps a recorder MIME type to the stored file extension.
// Parameters such as ";codecs=opus" are ignored. Unknown types fall back to webm.
func ExtensionForMIME(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/webm":
		return "webm"
	case "audio/mp4", "audio/m4a":
		return "mp4"
	default:
		return "webm"
	}
}

// ContentTypeForKey is the inverse used when serving or re-uploading a blob.
func ContentTypeForKey(key string) string {
	if strings.EqualFold(path.Ext(key), ".mp4") {
		return "audio/mp4"
	}
	return "audio/webm"
}

// AudioKey returns the blob key for a rep: {owner_id}/{rep_id}.{ext}.
func AudioKey(ownerID, repID uuid.UUID, mime string) string {
	return ownerID.String() + "/" + repID.String() + "." + ExtensionForMIME(mime)
}

// Filename returns the last path element of key, used as the upload filename
// for transcription.
func Filename(key string) string {
	name := path.Base(strings.TrimSpace(key))
	if name == "." || name == "/" || name == "" {
		return "audio.webm"
	}
	return name
}
