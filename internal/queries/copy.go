package queries

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// AutoMapping tells COPY to match JSON keys to column names.
const AutoMapping = "auto"

var (
	// ErrNoCredentials is returned when neither a key pair nor an IAM role is set.
	ErrNoCredentials = errors.New("copy: no credentials configured")

	// ErrUnsafeValue is returned for values that cannot be embedded in a COPY clause.
	ErrUnsafeValue = errors.New("copy: unsafe value")
)

// Credentials authorize the warehouse to read from object storage.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CopySource describes one COPY statement.
type CopySource struct {
	Table     Table
	Location  string // s3:// prefix of the newline-delimited JSON objects
	JSONPaths string // s3:// JSONPaths file, empty for automatic mapping
}

// CopyBuilder is the only place configuration values are interpolated into
// SQL text. COPY does not accept bind parameters for its location and
// credential clauses, so every value is validated and quoted here.
type CopyBuilder struct {
	Region      string
	IAMRole     string
	Credentials Credentials
}

// Build renders the COPY statement for src along with a redacted copy for logs.
func (b CopyBuilder) Build(src CopySource) (Statement, error) {
	if err := requireS3("location", src.Location); err != nil {
		return Statement{}, err
	}
	format := AutoMapping
	if src.JSONPaths != "" {
		if err := requireS3("jsonpaths", src.JSONPaths); err != nil {
			return Statement{}, err
		}
		format = src.JSONPaths
	}
	if b.Region == "" {
		return Statement{}, fmt.Errorf("copy %s: region is required", src.Table.Name)
	}
	if err := checkValues(b.Region, b.IAMRole, b.Credentials.AccessKeyID, b.Credentials.SecretAccessKey, b.Credentials.SessionToken); err != nil {
		return Statement{}, err
	}

	auth, redacted, err := b.authClause()
	if err != nil {
		return Statement{}, fmt.Errorf("copy %s: %w", src.Table.Name, err)
	}

	render := func(authClause string) string {
		return fmt.Sprintf("COPY %s\nFROM %s\n%s\nFORMAT AS JSON %s\nREGION %s;",
			pgx.Identifier{src.Table.Name}.Sanitize(),
			pq.QuoteLiteral(src.Location),
			authClause,
			pq.QuoteLiteral(format),
			pq.QuoteLiteral(b.Region),
		)
	}

	return Statement{
		Name:    "copy_" + src.Table.Name,
		SQL:     render(auth),
		Display: render(redacted),
	}, nil
}

func (b CopyBuilder) authClause() (clause, redacted string, err error) {
	if b.IAMRole != "" {
		c := "IAM_ROLE " + pq.QuoteLiteral(b.IAMRole)
		return c, c, nil
	}

	creds := b.Credentials
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return "", "", ErrNoCredentials
	}

	format := func(key, secret, token string) string {
		s := fmt.Sprintf("aws_access_key_id=%s;aws_secret_access_key=%s", key, secret)
		if token != "" {
			s += ";token=" + token
		}
		return "CREDENTIALS " + pq.QuoteLiteral(s)
	}

	masked := ""
	if creds.SessionToken != "" {
		masked = "***"
	}
	return format(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		format(creds.AccessKeyID, "***", masked),
		nil
}

func requireS3(what, v string) error {
	if v == "" {
		return fmt.Errorf("copy: %s is required", what)
	}
	if !strings.HasPrefix(v, "s3://") {
		return fmt.Errorf("copy: %s %q must be an s3:// location", what, v)
	}
	return checkValues(v)
}

// checkValues rejects characters that would change the meaning of a quoted
// literal or of the credentials sub-syntax.
func checkValues(values ...string) error {
	// Values may be secrets, so the error does not echo them.
	for i, v := range values {
		if strings.ContainsAny(v, "\\;\x00\n\r") {
			return fmt.Errorf("%w: value %d contains a forbidden character", ErrUnsafeValue, i)
		}
	}
	return nil
}
