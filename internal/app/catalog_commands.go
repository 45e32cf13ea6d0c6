package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List bridge providers with their chains, tokens and fees",
		RunE: func(cmd *cobra.Command, _ []string) error {
			adapters, err := s.buildAdapters()
			if err != nil {
				return err
			}
			infos := make([]model.ProviderInfo, 0, len(adapters))
			for _, a := range adapters {
				infos = append(infos, a.Info())
			}
			return s.emitSuccess(infos, nil, nil, cacheMetaBypass())
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported chains and their default RPC endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chains := id.Chains()
			infos := make([]model.ChainInfo, 0, len(chains))
			for _, c := range chains {
				info := model.ChainInfo{Name: c.Name, Slug: c.Slug, ChainID: c.CAIP2, NativeSymbol: c.NativeSymbol}
				if rpc, ok := registry.DefaultRPCURL(c.EVMChainID); ok {
					info.DefaultRPC = rpc
				}
				if urls := s.settings.RPCOverrides[c.Slug]; len(urls) > 0 {
					info.DefaultRPC = urls[0]
				}
				infos = append(infos, info)
			}
			return s.emitSuccess(infos, nil, nil, cacheMetaBypass())
		},
	}
	root.AddCommand(list)
	return root
}
