// Package billing implements the subscription lifecycle engine: plan
// catalog, checkout and instant-charge initiation, payment
// reconciliation over webhook and polling paths, and the scheduled
// sweep that downgrades lapsed subscriptions after their grace window.
//
// The Engine is the single entry point. It is wired with a recurring
// gateway provider, any number of instant providers, a subscription
// record store and a payment intent store:
//
//	engine := billing.New(ctx,
//		billing.NewFileSource("plans.yaml"),
//		paddleProvider,
//		billing.NewPGSubscriptionStore(pool),
//		billing.NewPGIntentStore(pool),
//		billing.WithInstantProvider(instantA),
//		billing.WithInstantProvider(instantB),
//		billing.WithNotifier(notifManager),
//	)
//
// Entitlement lives in exactly one place, the SubscriptionRecord. Both
// reconciliation paths converge on the same conditional store updates,
// so duplicate webhooks, concurrent polls and repeated sweeps all
// settle or downgrade at most once.
package billing
