package announce

import "context"

// IService registers this edge node with the central gateway so the
// dashboard can discover it. The gateway itself is a separate service;
// this side only posts the locator document.
type IService interface {
	Register(ctx context.Context) error
}
