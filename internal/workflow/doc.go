// Package workflow drains the translation queue.
//
// The Manager polls for pending jobs and feeds them one at a time through the
// chapter pipeline. Chapters of a book share an entity store and every chapter
// builds on the names committed by the previous one, so jobs run strictly in
// queue order rather than in parallel.
//
// In-flight jobs carry heartbeats. Jobs whose heartbeats go stale are
// reclaimed back to pending, and jobs left in translating by a crashed run
// are reset at startup.
//
// Per-job failures never abort the drain: provider and schema errors mark the
// job failed, and an unresolved entity conflict parks the job in review with
// the model output stashed so resolution does not repeat provider calls.
package workflow
