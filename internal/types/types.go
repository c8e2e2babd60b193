// README: Common identifier type shared across modules.
package types

// ID identifies a ride, driver, or any other entity.
type ID string

func (id ID) String() string { return string(id) }
