package models

// Writing styles accepted by the script generator.
const (
	StyleHumorous    = "Hài hước"
	StyleSerious     = "Nghiêm túc"
	StyleDramatic    = "Kịch tính"
	StyleTouching    = "Cảm động"
	StyleAdventurous = "Phiêu lưu"
)

// Output languages accepted by the script generator.
const (
	LanguageVietnamese = "Tiếng Việt"
	LanguageEnglish    = "English"
	LanguageChinese    = "中文"
	LanguageJapanese   = "日本語"
)

const DefaultMainCharacter = "Thánh Nhọ Rừng Sâu"

// DefaultPrompt is the stock script template. The "4500–5000 chữ" phrase is
// replaced with the requested word count.
const DefaultPrompt = `Bạn là Biên kịch viên YouTube chuyên nghiệp, chuyên viết kịch bản tóm tắt video sinh tồn nơi hoang dã.

Nhiệm vụ: Viết lại transcript thành kịch bản 10 phút, độ dài 4500–5000 chữ, giữ nguyên nội dung chính, chỉ thêm mô tả kịch tính và hài hước.

Yêu cầu: 
- Kể chuyện theo ngôi thứ 3.
- Chỉ xuất ra văn bản kịch bản, KHÔNG thêm ký tự đặc biệt, KHÔNG markdown, KHÔNG format ngoài chữ thường và chữ hoa.
- Nội dung phải bám sát transcript, không thêm chi tiết bên ngoài.
- Kết quả phải là chuỗi text thuần (plain text).
- Đầy đủ các hoạt động diễn ra trong transcript đã gửi, chỉ thêm mô tả chứ không thêm gì bên ngoài.
- Nếu bạn lạc đề khỏi transcript, hãy tự sửa trước khi gửi.

Hãy trả về đúng 1 plaintext duy nhất dựa trên transcript được cung cấp.`

// Settings is the user configuration for a single run.
type Settings struct {
	WordCount     int    `json:"wordCount" validate:"required,min=100,max=20000"`
	WritingStyle  string `json:"writingStyle" validate:"required,oneof='Hài hước' 'Nghiêm túc' 'Kịch tính' 'Cảm động' 'Phiêu lưu'"`
	MainCharacter string `json:"mainCharacter" validate:"required,notblank"`
	Language      string `json:"language" validate:"required,oneof='Tiếng Việt' English 中文 日本語"`
	Creativity    int    `json:"creativity" validate:"required,min=1,max=10"`
	Prompt        string `json:"prompt" validate:"required,notblank,min=50"`
}

func DefaultSettings() Settings {
	return Settings{
		WordCount:     4500,
		WritingStyle:  StyleHumorous,
		MainCharacter: DefaultMainCharacter,
		Language:      LanguageVietnamese,
		Creativity:    7,
		Prompt:        DefaultPrompt,
	}
}
