package pipeline

const (
	// DefaultModelName is the default Gemini model used for statement parsing.
	DefaultModelName = "gemini-2.5-flash"

	// MIMETypePDF is sent with inline statement bytes.
	MIMETypePDF = "application/pdf"
)
