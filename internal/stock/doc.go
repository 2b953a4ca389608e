// Package stock declares the core domain types shared by the sync engine:
// entities, dataset kinds, sync windows, job results, and the sentinel
// errors used to classify failures. It must not import drivers or clients.
package stock
