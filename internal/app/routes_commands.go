package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/model"
)

type routeFlags struct {
	source      string
	destination string
	token       string
	amount      string
	sender      string
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "from", "", "Source chain")
	cmd.Flags().StringVar(&f.destination, "to", "", "Destination chain")
	cmd.Flags().StringVar(&f.token, "token", "", "Token symbol (USDC, ETH, ...)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount in decimal units")
	cmd.Flags().StringVar(&f.sender, "sender", "", "Optional sender address used for quoting")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("amount")
}

func (f routeFlags) input() routeRequestInput {
	return routeRequestInput{Source: f.source, Destination: f.destination, Token: f.token, Amount: f.amount, Sender: f.sender}
}

func (s *runtimeState) newRoutesCommand() *cobra.Command {
	var flags routeFlags
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Quote every supporting bridge and rank the routes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := parseRouteRequest(flags.input())
			if err != nil {
				return err
			}
			res, ranked, err := s.rankedRoutes(cmd.Context(), req)
			s.lastStatuses = res.Providers
			if err != nil {
				return err
			}
			return s.emitSuccess(ranked, failedProviderWarnings(res.Providers), res.Providers, cacheMeta(res))
		},
	}
	flags.register(cmd)
	return cmd
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var flags routeFlags
	var provider string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Return the best route, or the route of one provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := parseRouteRequest(flags.input())
			if err != nil {
				return err
			}
			res, ranked, err := s.rankedRoutes(cmd.Context(), req)
			s.lastStatuses = res.Providers
			if err != nil {
				return err
			}
			best, err := pickRoute(ranked, provider)
			if err != nil {
				return err
			}
			return s.emitSuccess(best, failedProviderWarnings(res.Providers), res.Providers, cacheMeta(res))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&provider, "provider", "", "Restrict to one provider (stargate|hop|across|socket)")
	return cmd
}

// pickRoute returns the top-ranked route, or the named provider's route.
func pickRoute(ranked []model.ScoredRoute, provider string) (model.ScoredRoute, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, r := range ranked {
		if provider == "" || strings.EqualFold(r.Route.Provider, provider) {
			return r, nil
		}
	}
	if provider == "" {
		return model.ScoredRoute{}, clierr.New(clierr.CodeNoValidRoute, "no route available")
	}
	return model.ScoredRoute{}, clierr.New(clierr.CodeNoValidRoute, fmt.Sprintf("%s returned no route for this transfer", provider))
}

func failedProviderWarnings(statuses []model.ProviderStatus) []string {
	var warnings []string
	for _, st := range statuses {
		if st.Status != "ok" {
			warnings = append(warnings, fmt.Sprintf("%s %s: %s", st.Name, st.Status, st.Error))
		}
	}
	return warnings
}
