/*
Package freespace tracks committed and in-flight capacity of storage pools.

One Tracker exists per free space manager name. A non-shared pool uses
"<node>;<pool>"; pools on a shared backing device carry an explicit shared
name and therefore share a tracker.

A Tracker holds two kinds of state:

	committed   last free / total capacity reported by the satellite,
	            replaced as a whole by SetCapacityInfo
	pending     volumes whose creation has started but not finished,
	            one set for resources and one for snapshots

Callers combine them: GetFreeCapacityLastUpdated is the conservative
view, subtracting GetPendingAllocatedSum gives the optimistic one.

	tracker.VlmCreating(v)                     // pending += v
	tracker.VlmCreationFinished(v, free, total) // pending -= v, commit
	tracker.VlmCreationFinished(v, nil, nil)    // pending -= v only

The pending sets are guarded by their own mutex. The committed capacity
is a txn.Value changed in Begin/Set/Commit transactions, one at a time;
the last commit wins. A finish whose capacity cannot be staged is rolled
back and the volume stays pending.
*/
package freespace
