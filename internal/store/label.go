package store

import "strings"

// External labels attached to index descriptors follow a strict prefix
// convention: "photo-{photoId}" names a photo face, "user-{userId}" names a
// registered user face. Any other shape is classified as unknown and the
// whole label is passed through as the target id, unmodified.
const (
	photoLabelPrefix = "photo-"
	userLabelPrefix  = "user-"
)

// PhotoLabel builds the external label for a photo descriptor.
func PhotoLabel(photoID string) string {
	return photoLabelPrefix + photoID
}

// UserLabel builds the external label for a user descriptor.
func UserLabel(userID string) string {
	return userLabelPrefix + userID
}

// ParseLabel classifies an external label and extracts the target id.
func ParseLabel(label string) (TargetType, string) {
	switch {
	case strings.HasPrefix(label, photoLabelPrefix):
		return TargetPhoto, strings.TrimPrefix(label, photoLabelPrefix)
	case strings.HasPrefix(label, userLabelPrefix):
		return TargetUser, strings.TrimPrefix(label, userLabelPrefix)
	default:
		return TargetUnknown, label
	}
}
