// Package workload drives real work through the task scheduler: a paced
// frame loop that fans entity integration across workers, and a compile
// pass that hashes every matching file of a directory tree in parallel.
package workload
