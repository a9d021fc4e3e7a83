package executor

var BuildQuery = buildQuery
