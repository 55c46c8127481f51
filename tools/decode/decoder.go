package decode

import (
	"encoding/json"

	"TProject/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Map decodes a loosely-typed payload (typically map[string]any from a live
// event) into a concrete struct. Field names match by json tag, weak typing
// tolerates strings for numbers and vice versa — live transports do not
// guarantee shapes.
func Map(input any, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           output,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errs.Wrap(err)
	}
	if err := dec.Decode(input); err != nil {
		return errs.ErrArgs.WrapMsg("decode payload", "err", err)
	}
	return nil
}

// JSON unmarshals raw bytes into output, mapping parse failures onto the
// storage-corruption code so callers can reset state instead of crashing.
func JSON(data []byte, output any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, output); err != nil {
		return errs.ErrStorageCorrupt.WrapMsg("unmarshal", "err", err)
	}
	return nil
}

// Loose 先解析成松散 map 再弱类型映射进目标结构。实时频道上的载荷
// 来自不同版本的发布端，数字发成字符串是常态，strict unmarshal 会翻车。
func Loose(data []byte, output any) error {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return errs.ErrStorageCorrupt.WrapMsg("unmarshal", "err", err)
	}
	return Map(m, output)
}
