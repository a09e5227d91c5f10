// Package future provides single-assignment results for asynchronous calls.
//
// A Promise is the writing side: it settles exactly once, either fulfilled
// with a value or rejected with an error. Later settlement attempts are
// ignored. A Future is the reading side handed to callers.
//
// The combinators All, AllSettled, Any and Race fan several futures into one:
//
//	All         fulfils with every value (input order), rejects on the first rejection
//	AllSettled  fulfils with every Settlement (input order) once all have settled
//	Any         fulfils with the first fulfilment, rejects with *AggregateError if none fulfil
//	Race        settles exactly like the first input to settle
//
// Combinators read their inputs once, at call time. Futures created later are
// not observed by an existing aggregate.
package future
