/*
Package markov provides an ngram Markov chain toolkit for training on short
documents and generating new text of bounded length.

A Knowledge store maps every context of N tokens to the counts of the tokens
that followed it, plus a set of start candidates taken from the beginning of
each document. Train records documents into a store, and a Generator walks
the store with a weighted Sampler until it reaches StopToken or the length
budget. Output that overruns the budget is repaired, preferring a cut point
that is itself a natural sentence end.

Brain wraps one store, its Tokenizer, Generator and Snapshot behind a single
goroutine, so it can be shared by any number of callers. Stores persist
either as JSON files (FileSnapshot) or in a SQLite database (SQLStore).
*/
package markov
