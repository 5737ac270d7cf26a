// Package txtrecord flattens structured go values (structs, slices, maps, pointers and
// scalars) into an ordered list of short `key=value` [Records] and reconstructs values
// from such records. The format targets flat key-value stores like DNS TXT records,
// environment variables or simple config lines.
//
// Nesting is encoded in the key names. With the [DefaultConfig]:
//
//	name: "Alice"                 → name=Alice
//	servers: ["web1", "web2"]     → servers_0=web1, servers_1=web2, servers_len=2
//	database: {host: "localhost"} → database.host=localhost
//
// [Marshal] walks a value and emits records, [Unmarshal] walks the target type and pulls
// the values it needs out of a [Lookup] by exact key. Separators, the array length suffix
// and the maximum length of a single record are configured using [Config].
package txtrecord
