package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose type is listed. Images and
// stylesheets are never blocked: a capture without them is useless.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[strings.ToLower(string(h.Request.Type()))] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blockSet normalises config names (plural, any case) to CDP resource
// types, dropping the ones a capture depends on.
func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(t)), "s")
		switch t {
		case "", "image", "stylesheet", "document":
			continue
		}
		set[t] = true
	}
	return set
}
