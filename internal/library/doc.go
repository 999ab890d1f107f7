// Package library persists books, translated chapters, and the per-book
// entity store in SQLite.
//
// The entity store is the cross-chapter consistency mechanism: each tracked
// proper noun carries a canonical translation, an occurrence count, and the
// last chapter it appeared in. CommitChapter writes a chapter record and its
// resolved entity deltas in one transaction so a crash never leaves entities
// referencing an uncommitted chapter, and replaying a committed chapter is a
// no-op. FindDuplicates and FixDuplicates catch the drift cases the store
// exists to prevent: one key translated two ways, or one translation reused
// for different keys.
package library
