package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type ConnectionStatsBody struct {
	Connections int `json:"connections" doc:"Registered sessions"`
	Users       int `json:"users" doc:"Users with a current session"`
	SavedSets   int `json:"saved_sets" doc:"Subscription sets retained for reconnects"`
	Channels    int `json:"channels" doc:"Channels with at least one subscriber"`
}

type GetConnectionsOutput struct {
	Body ConnectionStatsBody
}

func RegisterConnectionRoutes(api huma.API, stats ConnectionStats) {
	huma.Register(api, huma.Operation{
		OperationID: "get-connections",
		Method:      http.MethodGet,
		Path:        "/connections",
		Summary:     "Report live session counters",
		Tags:        []string{"Connections"},
	}, func(_ context.Context, _ *struct{}) (*GetConnectionsOutput, error) {
		s := stats.Stats()
		return &GetConnectionsOutput{Body: ConnectionStatsBody{
			Connections: s.Connections,
			Users:       s.Users,
			SavedSets:   s.SavedSets,
			Channels:    s.Channels,
		}}, nil
	})
}
