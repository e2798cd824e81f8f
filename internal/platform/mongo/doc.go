// Package mongo provides the MongoDB implementation of task.Store. Each task
// is one document in the tasks collection with its logs embedded, so every
// transition is a single-document atomic update.
package mongo
