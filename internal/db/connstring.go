package db

import "strings"

// ConnParams describe a secret-store connection.
type ConnParams struct {
	Server    string
	Database  string
	User      string
	Password  string
	Encrypted bool
}

// EncryptionAttribute enables client-side column encryption on a connection.
const EncryptionAttribute = "Column Encryption Setting=enabled"

const encryptionKey = "column encryption setting"

// ConnString builds one of the four connection string shapes: credentialed
// when a password is given, integrated otherwise, each optionally with
// column encryption enabled. Values are quoted when they would otherwise
// be read as more than one attribute.
func ConnString(p ConnParams) string {
	var b strings.Builder
	if p.Password != "" {
		b.WriteString("Persist Security Info=True;User ID=")
		b.WriteString(quoteValue(p.User))
		b.WriteString(";Password=")
		b.WriteString(quoteValue(p.Password))
	} else {
		b.WriteString("Persist Security Info=False;Integrated Security=SSPI")
	}
	b.WriteString(";Initial Catalog=")
	b.WriteString(quoteValue(p.Database))
	b.WriteString(";Data Source=")
	b.WriteString(quoteValue(p.Server))
	if p.Encrypted {
		b.WriteString(";")
		b.WriteString(EncryptionAttribute)
	}
	return b.String()
}

// AdminConnString connects to database on server with the operator's
// integrated credentials.
func AdminConnString(server, database string) string {
	return "Integrated Security=SSPI;Persist Security Info=False;Initial Catalog=" + quoteValue(database) + ";Data Source=" + quoteValue(server)
}

// IsEncrypted reports whether connString enables column encryption.
func IsEncrypted(connString string) bool {
	return strings.EqualFold(ParseConnString(connString)[encryptionKey], "enabled")
}

// ServerOf returns the Data Source of an ADO-style connection string.
func ServerOf(connString string) string {
	attrs := ParseConnString(connString)
	if v, ok := attrs["data source"]; ok {
		return v
	}
	return attrs["server"]
}

// quoteValue wraps v in quotes when it contains a separator, a quote or
// edge whitespace. Double quotes are preferred; single quotes are used when
// v holds only double quotes, otherwise embedded double quotes are doubled.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, `;'"`) && strings.TrimSpace(v) == v {
		return v
	}
	switch {
	case !strings.Contains(v, `"`):
		return `"` + v + `"`
	case !strings.Contains(v, "'"):
		return "'" + v + "'"
	default:
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
}

// ParseConnString splits an ADO-style connection string into attributes.
// Keys are lowercased; quoted values are unquoted. A later duplicate key
// wins.
func ParseConnString(s string) map[string]string {
	attrs := make(map[string]string)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := s[:eq]
		if i := strings.LastIndexByte(key, ';'); i >= 0 {
			key = key[i+1:]
		}
		key = strings.ToLower(strings.TrimSpace(key))
		s = strings.TrimLeft(s[eq+1:], " ")

		var val string
		if s != "" && (s[0] == '"' || s[0] == '\'') {
			val, s = unquote(s)
		} else if i := strings.IndexByte(s, ';'); i >= 0 {
			val, s = strings.TrimSpace(s[:i]), s[i+1:]
		} else {
			val, s = strings.TrimSpace(s), ""
		}
		if key != "" {
			attrs[key] = val
		}
	}
	return attrs
}

// unquote reads a quoted value from the start of s, where a doubled quote
// stands for one literal quote, and returns the rest after the next ';'.
func unquote(s string) (string, string) {
	q := s[0]
	var b strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				b.WriteByte(q)
				i += 2
				continue
			}
			break
		}
		b.WriteByte(s[i])
		i++
	}
	rest := ""
	if i < len(s) {
		rest = s[i+1:]
	}
	if j := strings.IndexByte(rest, ';'); j >= 0 {
		rest = rest[j+1:]
	} else {
		rest = ""
	}
	return b.String(), rest
}
