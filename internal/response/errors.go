package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Test-specific ─────────────────────────────────────────────────
	ErrTestNotPublished    ErrCode = "TEST_NOT_PUBLISHED"
	ErrTestNotDraft        ErrCode = "TEST_NOT_DRAFT"
	ErrInvalidTest         ErrCode = "INVALID_TEST_DEFINITION"
	ErrAnswerKeyMismatch   ErrCode = "ANSWER_KEY_MISMATCH"
	ErrAttemptSubmitted    ErrCode = "ATTEMPT_ALREADY_SUBMITTED"
	ErrAttemptNotSubmitted ErrCode = "ATTEMPT_NOT_SUBMITTED"
	ErrAttemptClosed       ErrCode = "ATTEMPT_SESSION_CLOSED"
	ErrAttemptRunning      ErrCode = "ATTEMPT_RUNNING_ONLINE"
	ErrNothingToRetry      ErrCode = "NOTHING_TO_RETRY"
	ErrIdempotencyKey      ErrCode = "IDEMPOTENCY_KEY_MISMATCH"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrSessionActive:
		return "Siswa ini masih memiliki sesi aktif. Reset sesi terlebih dahulu."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Test-specific ─────────────────────────────────────────────────
	case ErrTestNotPublished:
		return "Tes ini belum dipublikasikan."
	case ErrTestNotDraft:
		return "Tes ini tidak dalam status DRAFT."
	case ErrInvalidTest:
		return "Definisi tes tidak valid."
	case ErrAnswerKeyMismatch:
		return "Kunci jawaban tidak sesuai dengan soal."
	case ErrAttemptSubmitted:
		return "Tes ini sudah dikumpulkan."
	case ErrAttemptNotSubmitted:
		return "Tes ini belum dikumpulkan."
	case ErrAttemptClosed:
		return "Sesi tes sudah ditutup."
	case ErrAttemptRunning:
		return "Tes ini masih berjalan secara daring."
	case ErrNothingToRetry:
		return "Tidak ada pengumpulan gagal yang perlu dikirim ulang."
	case ErrIdempotencyKey:
		return "Idempotency-Key tidak sesuai dengan isi pengumpulan."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "Berkas gambar diperlukan."
	case ErrUnsupportedFile:
		return "Jenis berkas tidak didukung."
	case ErrFileTooLarge:
		return "Ukuran berkas terlalu besar."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
