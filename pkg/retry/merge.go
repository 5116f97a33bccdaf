package retry

import "github.com/forgecore/engine/pkg/job"

// mergeFiles applies changes onto a copy of existing, returning the new
// file-set map. Add/Modify upsert the entry; Delete removes it. The job's
// canonical ExistingFiles is only ever replaced wholesale with the result
// of this merge, never mutated in place (spec.md §4.2 step f). The caller
// commits the result back onto ExistingFiles on every attempt that
// continues to a retry, even a failed one — the next attempt is meant to
// fix the current code forward, not restart from scratch (step i).
func mergeFiles(existing map[string]job.FileChange, changes []job.FileChange) map[string]job.FileChange {
	merged := make(map[string]job.FileChange, len(existing)+len(changes))
	for path, fc := range existing {
		merged[path] = fc
	}
	for _, c := range changes {
		path, err := job.NormalizePath(c.Path)
		if err != nil {
			continue
		}
		if c.ChangeType == job.ChangeDelete {
			delete(merged, path)
			continue
		}
		c.Path = path
		merged[path] = c
	}
	return merged
}

// filesSnapshot returns merged's values as a FileChange slice, each marked
// ChangeAdd — the "current state of the world" view CompileValidator and
// the final JobResult both want, regardless of how each file got there.
func filesSnapshot(merged map[string]job.FileChange) []job.FileChange {
	out := make([]job.FileChange, 0, len(merged))
	for _, fc := range merged {
		fc.ChangeType = job.ChangeAdd
		out = append(out, fc)
	}
	return out
}
