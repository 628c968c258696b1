/*
Package cfddns keeps Cloudflare DNS records pointed at the host's current public IP address.

Usage will always start with [cfddns.New],
which returns a [Client] for one zone and an ordered list of records.
New requires a [Config] and a [Provider] implementation for the zone, usually from [UsingCloudflare].
Additional client configuration options are listed in the docs for New.

A Client only ever updates records that already exist.
Records missing from the zone are reported as [RecordNotFoundError] and skipped.

[RunOnce] runs a single reconciliation pass,
and [Daemon] repeats passes on an interval until its context is cancelled.
*/
package cfddns
