// Package plans defines the subscription plan catalog: generation limits per
// billing period and the provider price ids each plan is sold under.
//
// The built-in catalog (free 5, basic 100, pro 400, max 1800) can be
// replaced by a YAML file. A Registry serves the current catalog and, when
// watching, swaps in a new one whenever the file changes:
//
//	registry, err := plans.NewRegistryFromFile(cfg.Usage.PlansFile, cfg.Usage.FreeGenerationsLimit, logger, metrics)
//	if err := registry.Watch(ctx); err != nil {
//		return err
//	}
//	limit := registry.Limit(plans.Pro)
package plans
