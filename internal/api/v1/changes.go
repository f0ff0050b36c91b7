package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/ingest"
	"github.com/gosuda/boardsync/internal/realtime"
)

type PostChangeInput struct {
	Body struct {
		Event   string         `json:"event" enum:"created,updated,deleted" doc:"Mutation kind"`
		Table   string         `json:"table" minLength:"1" doc:"Table of the mutated row"`
		New     map[string]any `json:"new,omitempty" doc:"Row after the mutation"`
		Old     map[string]any `json:"old,omitempty" doc:"Row before the mutation"`
		BoardID *uuid.UUID     `json:"board_id,omitempty" doc:"Owning board when the producer already knows it"`
	}
}

type DeliveryBody struct {
	Deliveries int `json:"deliveries" doc:"Number of connection deliveries enqueued"`
}

type DeliveryOutput struct {
	Body DeliveryBody
}

type PostBroadcastInput struct {
	Body struct {
		Channel string `json:"channel" minLength:"1" doc:"Target channel"`
		Type    string `json:"type" minLength:"1" maxLength:"100" doc:"Application event type"`
		Data    any    `json:"data,omitempty" doc:"Event payload"`
	}
}

func RegisterChangeRoutes(api huma.API, dispatcher Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-change",
		Method:        http.MethodPost,
		Path:          "/changes",
		Summary:       "Broadcast a row mutation",
		Tags:          []string{"Changes"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *PostChangeInput) (*DeliveryOutput, error) {
		hint := uuid.Nil
		if input.Body.BoardID != nil {
			hint = *input.Body.BoardID
		}

		msg, err := ingest.NewChangeMessage(realtime.EventKind(input.Body.Event), input.Body.Table,
			snapshot(input.Body.New), snapshot(input.Body.Old), hint)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid change", err)
		}
		ev, err := msg.ChangeEvent()
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid change", err)
		}

		return &DeliveryOutput{Body: DeliveryBody{Deliveries: dispatcher.Dispatch(ctx, ev)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-broadcast",
		Method:        http.MethodPost,
		Path:          "/broadcasts",
		Summary:       "Broadcast a custom event on one channel",
		Tags:          []string{"Changes"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *PostBroadcastInput) (*DeliveryOutput, error) {
		if err := realtime.ValidateChannel(input.Body.Channel); err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid channel", err)
		}

		n := dispatcher.DispatchCustom(ctx, input.Body.Channel, input.Body.Type, input.Body.Data)
		return &DeliveryOutput{Body: DeliveryBody{Deliveries: n}}, nil
	})
}

// snapshot keeps an absent row as a nil interface.
func snapshot(row map[string]any) any {
	if len(row) == 0 {
		return nil
	}
	return row
}
