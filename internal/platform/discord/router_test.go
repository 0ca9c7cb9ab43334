package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/example/party-roster/internal/application"
)

type handlerStub struct {
	requests []application.TransitionRequest
	outcome  application.Outcome
	err      error
}

func (h *handlerStub) Apply(ctx context.Context, req application.TransitionRequest) (application.TransitionResult, error) {
	h.requests = append(h.requests, req)
	if h.err != nil {
		return application.TransitionResult{}, h.err
	}
	return application.TransitionResult{Request: req, Outcome: h.outcome}, nil
}

func (h *handlerStub) Reply(result application.TransitionResult) string {
	return "reply:" + string(result.Outcome)
}

func TestRouterHandle(t *testing.T) {
	t.Run("routes a clock-in press", func(t *testing.T) {
		stub := &handlerStub{outcome: application.OutcomeActivated}
		router := NewRouter(stub, nil, nil, nil)

		reply, handled := router.Handle(context.Background(), "clock_in", "g", "m")
		if !handled || reply != "reply:activated" {
			t.Fatalf("unexpected reply %q handled=%v", reply, handled)
		}
		want := application.TransitionRequest{CommunityID: "g", MemberID: "m", Kind: application.TransitionActivate}
		if len(stub.requests) != 1 || stub.requests[0] != want {
			t.Fatalf("unexpected requests %+v", stub.requests)
		}
	})

	t.Run("ignores foreign components", func(t *testing.T) {
		stub := &handlerStub{}
		router := NewRouter(stub, nil, nil, nil)

		if _, handled := router.Handle(context.Background(), "poll_vote", "g", "m"); handled {
			t.Fatalf("expected unknown component to be ignored")
		}
		if _, handled := router.Handle(context.Background(), "clock_in", "", "m"); handled {
			t.Fatalf("expected direct-message presses to be ignored")
		}
		if len(stub.requests) != 0 {
			t.Fatalf("expected no transitions, got %+v", stub.requests)
		}
	})

	t.Run("respects the community allow-list", func(t *testing.T) {
		stub := &handlerStub{}
		router := NewRouter(stub, nil, []string{"g"}, nil)

		if _, handled := router.Handle(context.Background(), "clock_out", "other", "m"); handled {
			t.Fatalf("expected community outside the allow-list to be ignored")
		}
		if _, handled := router.Handle(context.Background(), "clock_out", "g", "m"); !handled {
			t.Fatalf("expected allowed community to be handled")
		}
	})

	t.Run("renders errors", func(t *testing.T) {
		stub := &handlerStub{err: errors.New("store offline")}
		router := NewRouter(stub, nil, nil, nil)

		reply, handled := router.Handle(context.Background(), "content_roads", "g", "m")
		if !handled || reply != application.ReplyError(stub.err) {
			t.Fatalf("unexpected reply %q handled=%v", reply, handled)
		}
	})
}
