package record

// FindManyArgs are the arguments of a paginated query.
type FindManyArgs struct {
	Filter  Filter
	OrderBy OrderBy
	First   *int
	Last    *int
	Before  *string
	After   *string
}

// FindOneArgs select a single record.
type FindOneArgs struct {
	Filter Filter
}

// FindDuplicatesArgs look for records resembling either an existing record
// (ID) or a candidate payload (Data).
type FindDuplicatesArgs struct {
	ID   *string
	Data Record
}

// CreateManyArgs insert several records.
type CreateManyArgs struct {
	Data []Record
}

// CreateOneArgs insert one record.
type CreateOneArgs struct {
	Data Record
}

// UpdateOneArgs patch one record by id.
type UpdateOneArgs struct {
	ID   string
	Data Record
}

// UpdateManyArgs patch every record matching Filter.
type UpdateManyArgs struct {
	Filter Filter
	Data   Record
}

// DeleteOneArgs delete one record by id.
type DeleteOneArgs struct {
	ID string
}

// DeleteManyArgs delete every record matching Filter.
type DeleteManyArgs struct {
	Filter Filter
}
