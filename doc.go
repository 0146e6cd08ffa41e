/*
Package snapback provides CLI tooling to keep rotating snapshots of directories.

Every run mirrors a set of sources into the daily slot of the current weekday,
then promotes yesterday's snapshot into the weekly and monthly tiers.
Unchanged files are shared between snapshots as hardlinks, so that a full
history of 7 days, 4 weeks and 12 months costs little more than a single copy.

The destination may be local or on a remote host reached with ssh.
*/
package snapback
