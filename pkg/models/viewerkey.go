package models

// ViewerKeyKind discriminates how a viewer was identified.
type ViewerKeyKind int

const (
	// ViewerUnidentified means neither a user id nor a session id was
	// supplied; de-duplication is skipped for such events.
	ViewerUnidentified ViewerKeyKind = iota
	// ViewerAuthenticated keys the viewer by their user id.
	ViewerAuthenticated
	// ViewerAnonymous keys the viewer by their session id.
	ViewerAnonymous
)

// ViewerKey is the identity used for view de-duplication.
type ViewerKey struct {
	Kind  ViewerKeyKind
	Value string
}

// ResolveViewerKey picks the de-duplication identity for an event: the
// authenticated user id wins over the session id; with neither present the
// viewer is unidentified. Pure, no failure modes.
func ResolveViewerKey(viewerUserID, sessionID *string) ViewerKey {
	if viewerUserID != nil && *viewerUserID != "" {
		return ViewerKey{Kind: ViewerAuthenticated, Value: *viewerUserID}
	}
	if sessionID != nil && *sessionID != "" {
		return ViewerKey{Kind: ViewerAnonymous, Value: *sessionID}
	}
	return ViewerKey{Kind: ViewerUnidentified}
}

// Identified reports whether the key can participate in de-duplication.
func (k ViewerKey) Identified() bool {
	return k.Kind != ViewerUnidentified
}

// String renders the key for lock sharding and logging.
func (k ViewerKey) String() string {
	switch k.Kind {
	case ViewerAuthenticated:
		return "user:" + k.Value
	case ViewerAnonymous:
		return "session:" + k.Value
	default:
		return "unidentified"
	}
}
