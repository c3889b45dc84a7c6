package cos

// Assert panics with a Critical error when cond is false. Used at invariant
// boundaries (§3 I1-I8) where a violation can only mean a bug in this core,
// never bad input — those are rejected earlier with a regular *Error.
func Assert(cond bool, why string) {
	if !cond {
		panic(Errf(Critical, nil, "assertion failed: %s", why))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(Errf(Critical, err, "unexpected error"))
	}
}
