// Package discovery implements participant and endpoint discovery.
//
// SPDP announces each participant periodically on the domain's multicast
// destination; remote participants are kept under a lease and removed,
// together with their endpoints, when the lease expires or they announce
// their departure. SEDP carries topic, publication and subscription data
// as parameter lists, re-sent periodically so a lost message is repaired
// on the next round. Unchanged data is not reported twice.
//
// Matching is a pure function of a publication and a subscription
// (Evaluate) plus a Matcher that records pair states so every change is
// reported exactly once.
package discovery
